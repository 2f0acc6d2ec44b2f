// Package fleetconv rewrites the vehicle types of a generated route file
// into a mixed electric fleet.
package fleetconv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// Vehicle type names written by the converter.
const (
	RandomType      = `type="random"`
	ElectricBusType = `type="ElectricBus"`
	EVehicleType    = `type="evehicle"`
)

// Options holds the conversion shares. A draw in [0, BusShare] becomes an
// electric bus, a draw in (BusShare, BusShare+EVShare] an electric car.
type Options struct {
	BusShare float64
	EVShare  float64
}

func (o Options) validate() error {
	if o.BusShare < 0 || o.EVShare < 0 || o.BusShare+o.EVShare > 1 {
		return fmt.Errorf("shares must be non-negative and sum to at most 1 (bus %.2f, ev %.2f)", o.BusShare, o.EVShare)
	}
	return nil
}

// Result counts the rewritten vehicles.
type Result struct {
	// Vehicles is the number of lines carrying the random type.
	Vehicles      int
	ElectricBuses int
	EVehicles     int
	Unchanged     int
}

// Convert copies r to w line by line, rewriting the random vehicle type.
// Line endings are preserved.
func Convert(r io.Reader, w io.Writer, opts Options, rng *rand.Rand) (Result, error) {
	var res Result
	if err := opts.validate(); err != nil {
		return res, err
	}

	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if strings.Contains(line, RandomType) {
				res.Vehicles++
				draw := rng.Float64()
				switch {
				case draw <= opts.BusShare:
					line = strings.Replace(line, RandomType, ElectricBusType, 1)
					res.ElectricBuses++
				case draw <= opts.BusShare+opts.EVShare:
					line = strings.Replace(line, RandomType, EVehicleType, 1)
					res.EVehicles++
				default:
					res.Unchanged++
				}
			}
			if _, werr := bw.WriteString(line); werr != nil {
				return res, fmt.Errorf("write: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("write: %w", err)
	}
	return res, nil
}

// ConvertFile converts the route file at in and writes the result to out.
// out is written through a temporary file and renamed into place.
func ConvertFile(in, out string, opts Options, rng *rand.Rand) (Result, error) {
	src, err := os.Open(in)
	if err != nil {
		return Result{}, fmt.Errorf("open route file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), filepath.Base(out)+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	res, err := Convert(src, tmp, opts, rng)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		return res, err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return res, fmt.Errorf("rename output: %w", err)
	}
	return res, nil
}
