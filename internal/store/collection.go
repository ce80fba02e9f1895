package store

// Keyed is implemented by every entity held in a Collection.
type Keyed interface {
	Key() string
}

// Collection is an id-keyed set. It is not safe for concurrent use; the
// Store serialises access.
type Collection[T Keyed] struct {
	items map[string]T
}

func NewCollection[T Keyed]() *Collection[T] {
	return &Collection[T]{items: make(map[string]T)}
}

// SetAll replaces the contents. Items with an empty key are skipped and a
// repeated key keeps the last occurrence.
func (c *Collection[T]) SetAll(items []T) {
	c.items = make(map[string]T, len(items))
	for _, item := range items {
		if item.Key() == "" {
			continue
		}
		c.items[item.Key()] = item
	}
}

// Upsert inserts or replaces by key and reports whether the key existed.
func (c *Collection[T]) Upsert(item T) bool {
	_, existed := c.items[item.Key()]
	c.items[item.Key()] = item
	return existed
}

func (c *Collection[T]) Remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	return true
}

func (c *Collection[T]) Get(id string) (T, bool) {
	item, ok := c.items[id]
	return item, ok
}

func (c *Collection[T]) Has(id string) bool {
	_, ok := c.items[id]
	return ok
}

func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Values returns a copy of the items in no particular order.
func (c *Collection[T]) Values() []T {
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	return out
}
