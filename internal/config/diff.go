package config

import "reflect"

// Diff is the set difference between two configuration snapshots. It is a
// pure description of what changed — applying it to the running system is the
// monitor's job, so diffing stays unit-testable on its own.
type Diff struct {
	AddedServices   []*ServiceSpec
	RemovedServices []string
	UpdatedServices []*ServiceSpec

	AddedNotifiers   []*NotifierSpec
	RemovedNotifiers []string
	UpdatedNotifiers []*NotifierSpec

	GlobalChanged bool
}

// Empty reports whether the two snapshots were identical.
func (d *Diff) Empty() bool {
	return len(d.AddedServices) == 0 &&
		len(d.RemovedServices) == 0 &&
		len(d.UpdatedServices) == 0 &&
		len(d.AddedNotifiers) == 0 &&
		len(d.RemovedNotifiers) == 0 &&
		len(d.UpdatedNotifiers) == 0 &&
		!d.GlobalChanged
}

// Compute returns the difference between the old and new configuration.
// Entries present in both with identical specs are not reported, so an
// unchanged service keeps its schedule and state across a reload.
// Slices are ordered by name for deterministic application and logging.
func Compute(old, new *Config) *Diff {
	d := &Diff{GlobalChanged: old.Global != new.Global}

	for _, name := range sortedKeys(new.Services) {
		spec := new.Services[name]
		prev, ok := old.Services[name]
		switch {
		case !ok:
			d.AddedServices = append(d.AddedServices, spec)
		case *prev != *spec:
			d.UpdatedServices = append(d.UpdatedServices, spec)
		}
	}
	for _, name := range sortedKeys(old.Services) {
		if _, ok := new.Services[name]; !ok {
			d.RemovedServices = append(d.RemovedServices, name)
		}
	}

	for _, name := range sortedKeys(new.Notifiers) {
		spec := new.Notifiers[name]
		prev, ok := old.Notifiers[name]
		switch {
		case !ok:
			d.AddedNotifiers = append(d.AddedNotifiers, spec)
		case !reflect.DeepEqual(prev, spec):
			d.UpdatedNotifiers = append(d.UpdatedNotifiers, spec)
		}
	}
	for _, name := range sortedKeys(old.Notifiers) {
		if _, ok := new.Notifiers[name]; !ok {
			d.RemovedNotifiers = append(d.RemovedNotifiers, name)
		}
	}

	return d
}
