// Package plant models continuous-time linear plants dx/dt = Ax + Bu and
// their fixed-step discretizations.
//
// A [Linear] plant implements [dynamo.System], so it can be driven directly
// by the simulator. [Linear.Discretize] produces the [Discrete] pair
// (Ad, Bd) used by the Riccati and receding-horizon designs.
//
// [CartPole] holds the physical parameters of a cart with an inverted
// pendulum and linearizes them about the upright equilibrium. The state is
// ordered as position, velocity, angle, angular velocity; the single input
// is the horizontal force on the cart.
package plant
