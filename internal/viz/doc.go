// Package viz draws a live receding-horizon run in the terminal.
//
// [Model] is a Bubble Tea model that closes the loop one control interval
// per tick and renders the cart-pole on a braille [Canvas] next to the
// controller's phase, optimal cost, solve latency and fallback counts.
//
// # Key Bindings
//
//	Space - Pause/Resume
//	N     - Single step while paused
//	D     - Kick the pole angle
//	R     - Reset to the initial state
//	Q     - Quit
package viz
