package blur

import (
	"fmt"
	"strings"
)

// Kind selects the transform applied to masked pixels.
type Kind int

const (
	// Gaussian averages a square neighborhood of radius Intensity/2,
	// clamping samples to the image edge.
	Gaussian Kind = iota
	// Pixelated gives every pixel of a block its top-left pixel's value.
	Pixelated
	// Mosaic gives every pixel of a block the block's mean.
	Mosaic
)

var kindNames = [...]string{
	Gaussian:  "gaussian",
	Pixelated: "pixelated",
	Mosaic:    "mosaic",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind accepts the names returned by String, case insensitively.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("blur: unknown kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("blur: unknown kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Intensity bounds.
const (
	MinIntensity = 1
	MaxIntensity = 50
)

// Params describe one transform.
type Params struct {
	Kind      Kind `yaml:"type"`
	Intensity int  `yaml:"intensity"`
}

// Clamped returns p with Intensity forced into [MinIntensity, MaxIntensity].
func (p Params) Clamped() Params {
	p.Intensity = max(MinIntensity, min(MaxIntensity, p.Intensity))
	return p
}

// Radius is the Gaussian neighborhood radius.
func (p Params) Radius() int {
	return p.Clamped().Intensity / 2
}

// BlockSize is the side of a Pixelated or Mosaic block.
func (p Params) BlockSize() int {
	return max(1, p.Clamped().Intensity/2)
}
