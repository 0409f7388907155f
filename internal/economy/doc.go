// Package economy holds the pure formulas of the soil economy.
//
// Nothing here performs I/O, reads a clock, or sees the event log. Every
// function takes explicit numeric or enumerated inputs, including "now" for
// the time-window helpers, so the formulas can be tested with fixed values
// and reimplemented bit-for-bit on another platform.
package economy
