// Package catalog holds the tracked plastic items a scanned code can resolve to.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// Status is where an item is in the collection pipeline.
type Status string

const (
	StatusCollected Status = "collected"
	StatusSorted    Status = "sorted"
	StatusRecycled  Status = "recycled"
)

// Location is where an item was collected.
type Location struct {
	Lat     float64
	Lng     float64
	Address string
}

// Item is a single tracked piece of plastic waste.
type Item struct {
	ID          string
	QRCode      string
	Type        string
	WeightKg    float64
	Status      Status
	CollectedAt time.Time
	UpdatedAt   time.Time
	Location    Location
}

func (i Item) String() string {
	return fmt.Sprintf("<item %s: %s, %.2f kg, %s>", i.QRCode, i.Type, i.WeightKg, i.Status)
}

// Catalog is an in-memory index of items keyed by QR code.
type Catalog struct {
	logger *zap.SugaredLogger
	items  *cache.Cache
}

// New creates a catalog seeded with the given items.
func New(logger *zap.SugaredLogger, items []Item) (*Catalog, error) {
	c := &Catalog{
		logger: logger.Named("catalog"),
		items:  cache.New(cache.NoExpiration, 0),
	}

	for _, item := range items {
		if err := c.Add(item); err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	c.logger.Debugw("Created catalog instance", "items", c.items.ItemCount())
	return c, nil
}

// Add indexes an item, rejecting QR codes that are already tracked.
func (c *Catalog) Add(item Item) error {
	key := normalize(item.QRCode)
	if key == "" {
		return fmt.Errorf("item %q has no QR code", item.ID)
	}

	if err := c.items.Add(key, item, cache.NoExpiration); err != nil {
		return fmt.Errorf("add item %s: %w", item.QRCode, err)
	}
	return nil
}

// Find looks an item up by its QR code, ignoring case and surrounding whitespace.
func (c *Catalog) Find(qrCode string) (Item, bool) {
	value, ok := c.items.Get(normalize(qrCode))
	if !ok {
		return Item{}, false
	}
	return value.(Item), true
}

// All returns every item, most recently collected first.
func (c *Catalog) All() []Item {
	cached := c.items.Items()

	items := make([]Item, 0, len(cached))
	for _, entry := range cached {
		items = append(items, entry.Object.(Item))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CollectedAt.After(items[j].CollectedAt)
	})
	return items
}

// Search returns the items whose QR code, type or address contains query.
func (c *Catalog) Search(query string) []Item {
	query = strings.ToLower(strings.TrimSpace(query))
	all := c.All()
	if query == "" {
		return all
	}

	return funk.Filter(all, func(item Item) bool {
		return strings.Contains(strings.ToLower(item.QRCode), query) ||
			strings.Contains(strings.ToLower(item.Type), query) ||
			strings.Contains(strings.ToLower(item.Location.Address), query)
	}).([]Item)
}

func normalize(qrCode string) string {
	return strings.ToUpper(strings.TrimSpace(qrCode))
}
