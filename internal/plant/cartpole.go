package plant

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

type CartPole struct {
	CartMass   float64
	PoleMass   float64
	PoleLength float64
	Gravity    float64
}

func NewCartPole() *CartPole {
	return &CartPole{
		CartMass:   1.0,
		PoleMass:   0.1,
		PoleLength: 1.0,
		Gravity:    9.8,
	}
}

func (c *CartPole) Validate() error {
	if c.CartMass <= 0 || c.PoleMass < 0 || c.PoleLength <= 0 {
		return fmt.Errorf("plant: cart-pole masses and length must be positive (M=%g m=%g l=%g): %w",
			c.CartMass, c.PoleMass, c.PoleLength, dynamo.ErrParameterBounds)
	}
	return nil
}

// Linearize returns the small-angle model about the upright equilibrium
// with a point pole mass at distance l.
func (c *CartPole) Linearize() (*Linear, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	M, m, l, g := c.CartMass, c.PoleMass, c.PoleLength, c.Gravity
	a := mat.NewDense(4, 4, []float64{
		0, 1, 0, 0,
		0, 0, -m * g / M, 0,
		0, 0, 0, 1,
		0, 0, (M + m) * g / (M * l), 0,
	})
	b := mat.NewDense(4, 1, []float64{
		0,
		1 / M,
		0,
		-1 / (M * l),
	})
	return New(a, b)
}
