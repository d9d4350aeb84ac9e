package partition

import "errors"

var (
    ErrNotLeader                 = errors.New("partition: not leader")
    ErrStopped                   = errors.New("partition: stopped")
    ErrReconfigurationInProgress = errors.New("partition: reconfiguration in progress")
    ErrQuorumFailed              = errors.New("partition: quorum failed")
    ErrConfigurationConflict     = errors.New("partition: conflicting force configuration")
)
