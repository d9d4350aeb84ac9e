// Package tlsconfig builds the TLS configuration shared by the partition RPC
// server and the management API. Certificates are re-read from disk so they
// can be rotated by replacing the files.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// reloadInterval bounds how long a loaded certificate is served before the
// files are read again.
const reloadInterval = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool   `yaml:"enable" json:"enable"`
    CAFile             string `yaml:"caFile" json:"caFile" validate:"omitempty,file"`
    CertFile           string `yaml:"certFile" json:"certFile" validate:"required_with=KeyFile"`
    KeyFile            string `yaml:"keyFile" json:"keyFile" validate:"required_with=CertFile"`
    InsecureSkipVerify bool   `yaml:"insecureSkipVerify" json:"insecureSkipVerify"`
    ServerName         string `yaml:"serverName" json:"serverName"`
}

var ErrMissingKeyPair = errors.New("tlsconfig: server cert/key required when TLS enabled")

// Server returns a server tls.Config, or nil when TLS is disabled. With a CA
// file, clients must present a certificate signed by it.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrMissingKeyPair }
    r := &certReloader{certFile: o.CertFile, keyFile: o.KeyFile}
    // fail early on unreadable files
    if _, err := r.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return r.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client tls.Config, or nil when TLS is disabled. The client
// certificate is optional.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        r := &certReloader{certFile: o.CertFile, keyFile: o.KeyFile}
        if _, err := r.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return r.get() }
    }
    return cfg, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(caFile)
    if err != nil { return nil, fmt.Errorf("tlsconfig: read CA: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tlsconfig: no certificates in %s", caFile) }
    return pool, nil
}

// certReloader caches a key pair and re-reads it after reloadInterval.
type certReloader struct {
    certFile, keyFile string

    mu     sync.RWMutex
    cached *tls.Certificate
    loaded time.Time
}

func (r *certReloader) get() (*tls.Certificate, error) {
    r.mu.RLock()
    if r.cached != nil && time.Since(r.loaded) < reloadInterval {
        c := r.cached
        r.mu.RUnlock()
        return c, nil
    }
    r.mu.RUnlock()
    cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
    if err != nil {
        r.mu.RLock()
        defer r.mu.RUnlock()
        // keep serving the previous pair while files are being replaced
        if r.cached != nil { return r.cached, nil }
        return nil, fmt.Errorf("tlsconfig: load key pair: %w", err)
    }
    r.mu.Lock()
    r.cached, r.loaded = &cert, time.Now()
    r.mu.Unlock()
    return &cert, nil
}
