package mpv

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/GiGurra/cmder"
)

// Backend identifies the audio stack the player should prefer.
type Backend int

const (
	BackendDefault     Backend = iota // Nothing detected, try everything
	BackendRaspberryPi                // Broadcom board, ALSA first
	BackendPipeWire
	BackendPulse
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	switch b {
	case BackendRaspberryPi:
		return "raspberry-pi"
	case BackendPipeWire:
		return "pipewire"
	case BackendPulse:
		return "pulseaudio"
	default:
		return "default"
	}
}

// AudioProfile is the probed audio environment of the host.
type AudioProfile struct {
	RaspberryPi bool // /proc/cpuinfo names a Pi or a Broadcom SoC
	PipeWire    bool // pactl answers and reports PipeWire
	PulseAudio  bool // pactl answers without PipeWire
}

// DetectAudioProfile probes the host. Probe failures read as "absent";
// the fallback profile still plays on most systems.
func DetectAudioProfile(ctx context.Context) AudioProfile {
	profile := AudioProfile{RaspberryPi: isRaspberryPi("/proc/cpuinfo")}

	result := cmder.New("pactl", "info").
		WithAttemptTimeout(2 * time.Second).
		Run(ctx)
	if result.Err == nil {
		if strings.Contains(strings.ToLower(result.StdOut), "pipewire") {
			profile.PipeWire = true
		} else {
			profile.PulseAudio = true
		}
	}
	return profile
}

// isRaspberryPi checks the cpuinfo file for Pi markers.
func isRaspberryPi(cpuinfoPath string) bool {
	data, err := os.ReadFile(cpuinfoPath)
	if err != nil {
		return false
	}
	info := strings.ToLower(string(data))
	return strings.Contains(info, "raspberry pi") || strings.Contains(info, "bcm")
}

// Backend returns the backend the profile selects. Pi detection wins
// over the pactl probe: Pi onboard audio wants ALSA ahead of anything
// a desktop stack reports.
func (p AudioProfile) Backend() Backend {
	switch {
	case p.RaspberryPi:
		return BackendRaspberryPi
	case p.PipeWire:
		return BackendPipeWire
	case p.PulseAudio:
		return BackendPulse
	default:
		return BackendDefault
	}
}

// Args returns the player's audio arguments for the profile: the --ao
// preference order plus device settings. Each order ends with a ","
// so the player falls back to its own defaults last.
func (p AudioProfile) Args() []string {
	switch p.Backend() {
	case BackendRaspberryPi:
		return []string{
			"--ao=alsa,pulse,pipewire,",
			"--audio-device=auto",
			"--audio-samplerate=44100",
			"--audio-format=s16",
		}
	case BackendPipeWire:
		return []string{"--ao=pipewire,pulse,alsa,", "--audio-device=auto"}
	case BackendPulse:
		return []string{"--ao=pulse,alsa,", "--audio-device=auto"}
	default:
		return []string{"--ao=pulse,alsa,pipewire,", "--audio-device=auto"}
	}
}
