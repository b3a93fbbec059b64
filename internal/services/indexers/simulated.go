// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/gamedrop/internal/models"
)

// Simulated returns deterministic stand-in results for development. It never
// touches the network and is off unless explicitly enabled.
type Simulated struct {
	name string
}

func NewSimulated(name string) *Simulated {
	return &Simulated{name: name}
}

func (s *Simulated) Name() string { return s.name }

var simulatedVariants = []struct {
	suffix  string
	size    int64
	seeders int
}{
	{suffix: "-FitGirl", size: 18 << 30, seeders: 120},
	{suffix: " v1.0.2-TENOKE", size: 32 << 30, seeders: 45},
	{suffix: " [GOG]", size: 30 << 30, seeders: 8},
}

func (s *Simulated) Search(ctx context.Context, title string) ([]models.SearchCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}

	out := make([]models.SearchCandidate, 0, len(simulatedVariants))
	for _, v := range simulatedVariants {
		name := title + v.suffix
		hash := fakeInfoHash(name)
		out = append(out, models.SearchCandidate{
			DisplayName:       name,
			AcquisitionHandle: buildMagnet(hash, name),
			InfoHash:          hash,
			SizeBytes:         v.size,
			Seeders:           v.seeders,
			Leechers:          v.seeders / 4,
			SourceProvider:    "simulated:" + s.name,
		})
	}
	return out, nil
}

func fakeInfoHash(name string) string {
	a := xxhash.Sum64String(name)
	b := xxhash.Sum64String("b:" + name)
	c := xxhash.Sum64String("c:" + name)
	return fmt.Sprintf("%016x%016x%08x", a, b, uint32(c))
}
