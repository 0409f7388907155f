// Package harness runs golden test vectors against the derivation engine.
//
// A vector is a fixed event sequence with the DerivedState it must produce.
// Every client implementation runs the same vectors, so the derivation rules
// and economy formulas cannot drift apart between platforms.
//
// # Vector Format
//
// Vectors are YAML files:
//
//	name: plant_water_harvest
//	description: "What this vector pins down"
//	now: "2025-03-12T12:00:00Z"   # optional, enables allowance assertions
//	permutations: 8               # optional, shuffled orders that must agree
//	redeliver: true               # optional, shuffles also carry duplicates
//	events:
//	  - type: sprout-planted
//	    client_id: p1
//	    at: "2025-03-10T09:00:00Z"
//	    payload: { sproutId: s1, twigId: twig-a, title: Run, season: 1m,
//	               environment: firm, soilCost: 5 }
//	assertions:
//	  - type: soil
//	    capacity: 10
//	    available: 5
//	  - type: sprout
//	    id: s1
//	    state: active
//	  - type: count
//	    of: sprouts
//	    count: 1
//	  - type: allowance
//	    water_remaining: 3
//	    sun_remaining: 1
//
// # Golden Files
//
// RunWithGolden also compares a rounded snapshot of the derived state with
// testdata/golden/{name}.golden. Floats are rendered with four decimals so
// the files are portable across languages. Regenerate with:
//
//	go test ./internal/harness -update
package harness
