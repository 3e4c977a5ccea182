package track

const (
	// defaultMTU assumes a 1500 byte Ethernet path minus the IPv6 and UDP
	// outer headers.
	defaultMTU = 1452
	// fixedOverhead is the RTP fixed header plus the UDP and IPv6 outer
	// headers, the worst case a sender must leave room for.
	fixedOverhead = 12 + 8 + 40

	defaultRecvQueueLimit = 1024 * 1024

	// maxMidLen is the largest mid that fits a one-byte extension element.
	maxMidLen = 16
)

// Config holds the connection-scoped settings a track inherits.
type Config struct {
	// MTU overrides the default path MTU used for MaxMessageSize.
	MTU int `mapstructure:"mtu"`
	// RecvQueueLimit bounds the inbound queue in accounted bytes.
	RecvQueueLimit int `mapstructure:"recvqueuelimit"`
	// MediaDisabled turns the media capability off for the whole
	// connection; sends then fail with ErrMediaUnsupported.
	MediaDisabled bool `mapstructure:"mediadisabled"`
}

func (c *Config) setDefaults() {
	if c.MTU <= 0 {
		c.MTU = defaultMTU
	}
	if c.RecvQueueLimit <= 0 {
		c.RecvQueueLimit = defaultRecvQueueLimit
	}
}
