// Package icon embeds the tray and notification icon.
package icon

// Logo is a 16x16 ICO.
var Logo []byte = []byte{
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10, 0x00, 0x00, 0x01, 0x00,
	0x20, 0x00, 0x79, 0x00, 0x00, 0x00, 0x16, 0x00, 0x00, 0x00, 0x89, 0x50,
	0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48,
	0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10, 0x08, 0x06,
	0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00, 0x40, 0x49,
	0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0xa0, 0x36, 0x10, 0x5b, 0xec,
	0xf5, 0x1f, 0x1f, 0xa6, 0x48, 0x33, 0x5e, 0x43, 0x88, 0xd5, 0x8c, 0xd5,
	0x10, 0x64, 0x09, 0x42, 0x00, 0xab, 0x21, 0xe8, 0x06, 0xe0, 0x62, 0x93,
	0x64, 0x00, 0x36, 0x83, 0x88, 0x36, 0x00, 0x9f, 0x2b, 0x46, 0x8a, 0x17,
	0x48, 0x8e, 0x46, 0x8a, 0x13, 0x12, 0x55, 0x92, 0x32, 0x55, 0x32, 0x13,
	0x39, 0x00, 0x00, 0xac, 0x7f, 0xa8, 0x78, 0x7b, 0x65, 0x9f, 0xce, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
