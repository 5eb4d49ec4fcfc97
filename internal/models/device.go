package models

// Device is one of the identity's own devices taking part in its device log.
type Device struct {
	ID       int64
	Name     string
	Info     string
	Addr     string
	Height   uint64
	Datetime int64
}

func (d *Device) ToRPC() []any {
	return []any{d.ID, d.Name, d.Info, d.Addr, d.Height, d.Datetime}
}
