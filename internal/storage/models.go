package storage

import (
	"encoding/json"
	"time"
)

type RegisterWrite struct {
	ID        int64     `json:"id"`
	Sensor    string    `json:"sensor"`
	Target    string    `json:"target"`
	Address   uint16    `json:"address"`
	Value     uint8     `json:"value"`
	WrittenBy string    `json:"written_by"`
	CreatedAt time.Time `json:"created_at"`
}

type AttributeSnapshot struct {
	Sensor    string          `json:"sensor"`
	State     string          `json:"state"`
	Mode      int             `json:"mode"`
	Video     json.RawMessage `json:"video"`
	UpdatedAt time.Time       `json:"updated_at"`
}
