package store

// ObservedStore forwards to an underlying [Store] and reports committed
// mutations to its observers.
type ObservedStore struct {
	Store
	observers []Observer
}

// Observe wraps s so that every successful Write and every Delete that
// removed a key is reported to observers, in order, after the underlying
// table lock is released.
func Observe(s Store, observers ...Observer) *ObservedStore {
	return &ObservedStore{Store: s, observers: observers}
}

// Write writes through to the underlying store and notifies observers.
func (o *ObservedStore) Write(key, value string) error {
	if err := o.Store.Write(key, value); err != nil {
		return err
	}
	for _, obs := range o.observers {
		obs.KeyWritten(key, value)
	}
	return nil
}

// Delete deletes through to the underlying store and notifies observers if
// the key was present.
func (o *ObservedStore) Delete(key string) (bool, error) {
	found, err := o.Store.Delete(key)
	if err != nil || !found {
		return found, err
	}
	for _, obs := range o.observers {
		obs.KeyDeleted(key)
	}
	return true, nil
}
