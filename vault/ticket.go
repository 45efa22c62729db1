package vault

// Commit tickets: a minimal capacity-policy capsule attached to commits
// (see CommitTicket in config.go), simplified to the
// two budgets a caller can actually reason about from outside the vault:
// total bytes written and total frame count.

// checkTicket verifies that appending addBytes more bytes (and one more
// frame) would not exceed the vault's configured CommitTicket, if any.
func (v *Vault) checkTicket(addBytes int64) error {
	t := v.opts.Ticket
	if t == nil {
		return nil
	}

	if t.MaxFrames > 0 && int64(len(v.frames))+1 > t.MaxFrames {
		return &CapacityExceededError{Current: int64(len(v.frames)), Limit: t.MaxFrames, Required: 1}
	}

	if t.MaxBytes > 0 {
		current := int64(v.dataCursor)
		required := current + addBytes
		if required > t.MaxBytes {
			return &CapacityExceededError{Current: current, Limit: t.MaxBytes, Required: addBytes}
		}
	}

	return nil
}
