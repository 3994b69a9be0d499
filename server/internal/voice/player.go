package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os/exec"
)

// Player writes audio to the output device.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// ExecPlayer pipes audio into an external command such as `aplay -q` or
// `ffplay -nodisp -autoexit -`. Cancelling ctx kills the process.
type ExecPlayer struct {
	Command []string
}

func (p ExecPlayer) Play(ctx context.Context, audio []byte) error {
	if len(p.Command) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SpeechError{Op: "play", Err: err}
	}
	return nil
}

// Chime returns a short two-tone WAV used when speech is unavailable.
func Chime() []byte {
	const (
		sampleRate = 22050
		toneMillis = 150
		amplitude  = 0.4 * math.MaxInt16
	)
	tones := []float64{880, 660}
	perTone := sampleRate * toneMillis / 1000
	samples := make([]int16, 0, perTone*len(tones))
	for _, freq := range tones {
		for i := 0; i < perTone; i++ {
			// Linear fade-out keeps the tone edges from clicking.
			env := 1 - float64(i)/float64(perTone)
			v := amplitude * env * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
			samples = append(samples, int16(v))
		}
	}

	dataLen := uint32(len(samples) * 2)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, sampleRate, sampleRate * 2, 2, 16})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
