package blacklist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedSplitsFamilies(t *testing.T) {
	feed := `# spamhaus-style feed
// another comment style
; and a third

1.2.3.4
5.6.7.8,botnet c2
10.0.0.0/8,rfc1918
203.0.113.0/24
not-an-ip
2001:db8::1
300.1.2.3
`
	ips, cidrs, dropped := ParseFeed(strings.NewReader(feed))

	require.Len(t, ips, 2)
	assert.Equal(t, "1.2.3.4", ips[0].Value)
	assert.Equal(t, "", ips[0].Reason)
	assert.Equal(t, "5.6.7.8", ips[1].Value)
	assert.Equal(t, "botnet c2", ips[1].Reason)

	require.Len(t, cidrs, 2)
	assert.Equal(t, "10.0.0.0/8", cidrs[0].Value)
	assert.Equal(t, "rfc1918", cidrs[0].Reason)
	assert.Equal(t, "203.0.113.0/24", cidrs[1].Value)

	// not-an-ip, the IPv6 address and the out-of-range quad are dropped.
	assert.Equal(t, 3, dropped)
}

func TestParseFeedRejectsIPv6AndMappedForms(t *testing.T) {
	feed := "::ffff:1.2.3.4\n2001:db8::/32\nfe80::1\n"
	ips, cidrs, dropped := ParseFeed(strings.NewReader(feed))
	assert.Empty(t, ips)
	assert.Empty(t, cidrs)
	assert.Equal(t, 3, dropped)
}

func TestParseFeedTrimsWhitespaceAroundCSV(t *testing.T) {
	ips, _, dropped := ParseFeed(strings.NewReader("  1.1.1.1 , scanner  \n"))
	require.Len(t, ips, 1)
	assert.Equal(t, "1.1.1.1", ips[0].Value)
	assert.Equal(t, "scanner", ips[0].Reason)
	assert.Zero(t, dropped)
}

func TestParseFeedEmptyInput(t *testing.T) {
	ips, cidrs, dropped := ParseFeed(strings.NewReader(""))
	assert.Empty(t, ips)
	assert.Empty(t, cidrs)
	assert.Zero(t, dropped)
}
