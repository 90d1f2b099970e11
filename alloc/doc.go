// Package alloc is a block-oriented facade over an allocation engine. Every operation takes and
// returns a Block, an address paired with the length the caller asked for, and the facade enforces
// the rules the engine leaves to its callers: zero-size requests never reach the engine, counted
// requests are checked for overflow, and out-of-memory is reported as an absent Block rather than an
// error.
//
// The engine is reached only through the Engine and EngineHeap interfaces. NewNative wires the facade
// to the engine package.
//
// Blocks live outside the Go heap. They must not hold Go pointers, and every Block must be released
// with Deallocate. Deallocating a Block twice, or one that did not come from this facade, is not
// detected.
package alloc
