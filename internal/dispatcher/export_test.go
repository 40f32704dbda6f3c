package dispatcher

func (d *Dispatcher) CachedAudiences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.audiences)
}
