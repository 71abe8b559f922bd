package sim

// Counter accumulates the volume a scenario run has driven through the
// escrow vault.
type Counter struct {
	Lifecycles   int
	Rentals      int
	Cancels      int
	VolumeMinor  int64 // token amount listed across all lifecycles
	PlatformFees int64 // fees retained by the vault, never disbursed
}

// Add records one finished lifecycle and the platform fee it left behind.
func (c *Counter) Add(l Lifecycle, platformFee int64) {
	c.Lifecycles++
	c.VolumeMinor += l.Amount
	if l.Resolution == ResolveCancel {
		c.Cancels++
		return
	}
	c.Rentals++
	c.PlatformFees += platformFee
}
