// Package scheduler picks publishing slots with a Thompson-sampling
// multi-armed bandit over (platform, day-of-week, hour) arms and folds
// delayed engagement feedback back into the arm beliefs.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// Cadence caps how many slots may be selected per weekday. It is a hard
// constraint on both exploration and the exploitation view.
type Cadence map[time.Weekday]int

// DefaultCadence is one slot per day Monday–Thursday and two per day
// Friday–Sunday: ten slots per week.
func DefaultCadence() Cadence {
	return Cadence{
		time.Monday:    1,
		time.Tuesday:   1,
		time.Wednesday: 1,
		time.Thursday:  1,
		time.Friday:    2,
		time.Saturday:  2,
		time.Sunday:    2,
	}
}

// Total returns the number of slots a full week allows.
func (c Cadence) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Bandit selects and learns publishing slots. Arm state lives in the
// store; the bandit itself is stateless apart from its RNG.
type Bandit struct {
	store store.Store
	hours []int
	rng   *rand.Rand
}

// New creates a bandit over the given candidate hours-of-day.
func New(s store.Store, hours []int) *Bandit {
	return NewWithRand(s, hours, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates a bandit with an injected RNG for deterministic tests.
func NewWithRand(s store.Store, hours []int, rng *rand.Rand) *Bandit {
	if len(hours) == 0 {
		hours = []int{9, 12, 15, 18, 21}
	}
	return &Bandit{store: s, hours: hours, rng: rng}
}

// Select draws one Thompson sample per eligible arm and returns up to
// count slots with the highest sampled values, never exceeding the
// per-day cadence cap. High-variance, under-tried arms occasionally win,
// which is the exploration half of the tradeoff.
func (b *Bandit) Select(ctx context.Context, platform, contentType string, eligibleDays []time.Weekday, cadence Cadence, count int) ([]types.Slot, error) {
	if count <= 0 {
		return nil, nil
	}

	type sampled struct {
		key   types.ArmKey
		value float64
	}
	var draws []sampled
	for _, day := range eligibleDays {
		for _, hour := range b.hours {
			key := types.ArmKey{Platform: platform, ContentType: contentType, Day: day, Hour: hour}
			arm, err := b.store.GetArm(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to load arm %v: %w", key, err)
			}
			draws = append(draws, sampled{key: key, value: sampleBeta(b.rng, arm.Alpha, arm.Beta)})
		}
	}
	sort.Slice(draws, func(i, j int) bool { return draws[i].value > draws[j].value })

	perDay := make(map[time.Weekday]int)
	var slots []types.Slot
	for _, d := range draws {
		if len(slots) >= count {
			break
		}
		if limit, ok := cadence[d.key.Day]; ok && perDay[d.key.Day] >= limit {
			continue
		}
		perDay[d.key.Day]++
		slots = append(slots, types.Slot{
			Platform:    d.key.Platform,
			ContentType: d.key.ContentType,
			Day:         d.key.Day,
			Hour:        d.key.Hour,
		})
	}
	return slots, nil
}

// Update folds one observed reward in [0, 1] into the arm's belief:
// alpha += reward, beta += 1-reward. Updates commute, so delayed or
// out-of-order analytics are safe to apply whenever they arrive.
func (b *Bandit) Update(ctx context.Context, key types.ArmKey, reward float64) error {
	if _, err := b.store.ApplyReward(ctx, key, reward); err != nil {
		return fmt.Errorf("failed to update arm %v: %w", key, err)
	}
	return nil
}

// BestSchedule is the exploitation-only read: it ranks arms by posterior
// mean rather than sampling and returns one full week of slots under the
// cadence caps. It never mutates bandit state.
func (b *Bandit) BestSchedule(ctx context.Context, platform, contentType string, cadence Cadence) ([]types.Slot, error) {
	type ranked struct {
		key  types.ArmKey
		mean float64
	}
	var arms []ranked
	for day := time.Sunday; day <= time.Saturday; day++ {
		if cadence[day] <= 0 {
			continue
		}
		for _, hour := range b.hours {
			key := types.ArmKey{Platform: platform, ContentType: contentType, Day: day, Hour: hour}
			arm, err := b.store.GetArm(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to load arm %v: %w", key, err)
			}
			arms = append(arms, ranked{key: key, mean: arm.Mean()})
		}
	}
	sort.SliceStable(arms, func(i, j int) bool {
		if arms[i].mean != arms[j].mean {
			return arms[i].mean > arms[j].mean
		}
		if arms[i].key.Day != arms[j].key.Day {
			return arms[i].key.Day < arms[j].key.Day
		}
		return arms[i].key.Hour < arms[j].key.Hour
	})

	perDay := make(map[time.Weekday]int)
	var slots []types.Slot
	for _, a := range arms {
		if perDay[a.key.Day] >= cadence[a.key.Day] {
			continue
		}
		perDay[a.key.Day]++
		slots = append(slots, types.Slot{
			Platform:    a.key.Platform,
			ContentType: a.key.ContentType,
			Day:         a.key.Day,
			Hour:        a.key.Hour,
			Mean:        a.mean,
		})
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Day != slots[j].Day {
			return slots[i].Day < slots[j].Day
		}
		return slots[i].Hour < slots[j].Hour
	})
	return slots, nil
}
