package isp

import (
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
)

type Command string

const (
	CommandStreamOn      Command = "stream_on"
	CommandStreamOff     Command = "stream_off"
	CommandPrepareChange Command = "prepare_change"
	CommandFinishChange  Command = "finish_change"
	CommandReset         Command = "reset"
	CommandDetect        Command = "detect"
	CommandInit          Command = "init"
)

func ParseCommand(s string) (Command, bool) {
	switch c := Command(s); c {
	case CommandStreamOn, CommandStreamOff, CommandPrepareChange, CommandFinishChange,
		CommandReset, CommandDetect, CommandInit:
		return c, true
	}
	return "", false
}

type Status struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Descriptor      string              `json:"descriptor"`
	State           sensor.StreamState  `json:"state"`
	Present         bool                `json:"present"`
	ChipID          string              `json:"chip_id,omitempty"`
	Mode            int                 `json:"mode"`
	LastCommand     Command             `json:"last_command,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	LastStateChange time.Time           `json:"last_state_change"`
	Video           sensor.Video        `json:"video"`
	Config          sensor.AttachConfig `json:"attach"`
}
