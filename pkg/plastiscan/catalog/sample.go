package catalog

import "time"

func mustParse(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local)
	if err != nil {
		panic(err)
	}
	return t
}

// SampleItems returns the demo items tracked out of the box.
func SampleItems() []Item {
	return []Item{
		{
			ID:          "1",
			QRCode:      "PLASTIC-QR-2025-0042",
			Type:        "Bottle",
			WeightKg:    0.15,
			Status:      StatusCollected,
			CollectedAt: mustParse("2025-08-05T10:30:00"),
			UpdatedAt:   mustParse("2025-08-05T10:30:00"),
			Location:    Location{Lat: 28.6139, Lng: 77.209, Address: "Connaught Place, New Delhi"},
		},
		{
			ID:          "2",
			QRCode:      "PLASTIC-QR-2025-0041",
			Type:        "Container",
			WeightKg:    0.25,
			Status:      StatusSorted,
			CollectedAt: mustParse("2025-08-04T15:45:00"),
			UpdatedAt:   mustParse("2025-08-04T18:20:00"),
			Location:    Location{Lat: 28.6129, Lng: 77.2295, Address: "Lajpat Nagar, New Delhi"},
		},
		{
			ID:          "3",
			QRCode:      "PLASTIC-QR-2025-0040",
			Type:        "Bag",
			WeightKg:    0.05,
			Status:      StatusRecycled,
			CollectedAt: mustParse("2025-08-02T14:20:00"),
			UpdatedAt:   mustParse("2025-08-03T09:15:00"),
			Location:    Location{Lat: 28.5355, Lng: 77.241, Address: "Saket, New Delhi"},
		},
	}
}
