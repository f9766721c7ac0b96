package stage

import (
	"context"
	"fmt"
	"sort"
)

// Stage is the uniform interface every pipeline stage implements. Timing,
// logging, and run bookkeeping are provided by the executor wrapping each
// call, not by the stages themselves.
type Stage interface {
	Name() string
	// Inputs lists the artifact names this stage reads. Freshness checks
	// compare their store versions against the stage's last committed run.
	Inputs() []string
	// Output names the primary artifact this stage's document commits under.
	Output() string
	Run(ctx context.Context, env *Env) (*Outcome, error)
}

// Definition binds a stage to its graph position and failure policy.
type Definition struct {
	Stage Stage
	// Deps are stage names that must commit a usable outcome first.
	Deps []string
	// Critical stages hard-fail on error; non-critical ones are demoted to
	// soft failures so the rest of the graph continues.
	Critical bool
}

// Registry holds the stage graph. It is immutable after construction.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds the full production stage graph.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	r.register(&Ingest{}, nil, true)
	r.register(&Stitch{}, []string{"ingest"}, true)
	r.register(&AudioAnalysis{}, []string{"stitch"}, true)
	r.register(&SpeakerCut{}, []string{"audio_analysis"}, true)
	r.register(&Transcribe{}, []string{"stitch"}, true)
	r.register(&ClipMiner{}, []string{"transcribe", "speaker_cut"}, true)
	r.register(&ScoreClips{}, []string{"clip_miner"}, true)
	r.register(&LongformRender{}, []string{"speaker_cut", "transcribe"}, true)
	r.register(&ShortsRender{}, []string{"score_clips", "longform_render"}, true)
	r.register(&MetadataGen{}, []string{"score_clips"}, true)
	r.register(&QA{}, []string{"longform_render", "shorts_render", "metadata_gen"}, true)
	r.register(&Schedule{}, []string{"qa"}, true)
	r.register(&Publish{}, []string{"schedule"}, false)
	r.register(&Backup{}, []string{"qa"}, false)
	return r
}

// NewRegistryFrom builds a registry from explicit definitions; tests use it
// to run synthetic graphs through the executor.
func NewRegistryFrom(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		name := def.Stage.Name()
		if _, dup := r.defs[name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		r.defs[name] = def
		r.order = append(r.order, name)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(s Stage, deps []string, critical bool) {
	r.defs[s.Name()] = Definition{Stage: s, Deps: deps, Critical: critical}
	r.order = append(r.order, s.Name())
}

// Get returns the definition for a stage name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all stage names in registration (topological) order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Closure expands a requested stage set to include every transitive
// dependency, returned in deterministic topological order. An empty
// request means the full graph.
func (r *Registry) Closure(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = r.order
	}
	want := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if want[name] {
			return nil
		}
		def, ok := r.defs[name]
		if !ok {
			return fmt.Errorf("unknown stage %q", name)
		}
		want[name] = true
		for _, dep := range def.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range requested {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	var out []string
	for _, name := range r.order {
		if want[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Downstream returns every stage that depends, directly or transitively,
// on the named stage. Used by forced re-runs to invalidate the closure.
func (r *Registry) Downstream(name string) []string {
	dependents := make(map[string][]string)
	for child, def := range r.defs {
		for _, dep := range def.Deps {
			dependents[dep] = append(dependents[dep], child)
		}
	}

	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for _, child := range dependents[n] {
			if !seen[child] {
				seen[child] = true
				walk(child)
			}
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	for _, n := range r.order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// validate checks that every dep exists and the graph is acyclic.
func (r *Registry) validate() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("stage dependency cycle through %q", name)
		case done:
			return nil
		}
		state[name] = visiting
		def, ok := r.defs[name]
		if !ok {
			return fmt.Errorf("unknown stage %q", name)
		}
		for _, dep := range def.Deps {
			if _, ok := r.defs[dep]; !ok {
				return fmt.Errorf("stage %q depends on unknown stage %q", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
