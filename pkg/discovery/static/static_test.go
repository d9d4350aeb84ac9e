package static

import (
    "context"
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/discovery"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want map[string]string
    }{
        {"", map[string]string{}},
        {"a=h:1", map[string]string{"a": "h:1"}},
        {" a = h:1 , b=h:2 ", map[string]string{"a": "h:1", "b": "h:2"}},
        {",,a=h:1, ,b=h:2,", map[string]string{"a": "h:1", "b": "h:2"}},
    }
    for _, c := range cases {
        got, err := Parse(c.in)
        require.NoError(t, err, c.in)
        require.Equal(t, c.want, got, c.in)
    }
    for _, bad := range []string{"a", "=h:1", "a="} {
        _, err := Parse(bad)
        require.Error(t, err, bad)
    }
}

func TestResolve(t *testing.T) {
    r := New(map[string]string{" a ": " h:1 ", "b": "", "": "h:3"})
    addr, err := r.Resolve(context.Background(), "a")
    require.NoError(t, err)
    require.Equal(t, "h:1", addr)

    _, err = r.Resolve(context.Background(), "b")
    require.ErrorIs(t, err, discovery.ErrNotFound)
}
