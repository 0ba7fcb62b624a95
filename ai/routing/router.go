package routing

import "fmt"

// largeContextThreshold is the token count above which the request must go
// to the large-context model.
const largeContextThreshold = 100000

// Models names the model tiers a tenant has configured.
type Models struct {
	Cheap        string
	Default      string
	Reasoning    string
	LargeContext string
}

// Decision is the routing outcome: which model and why.
type Decision struct {
	Model      string
	Reason     string
	Complexity float64
}

// Route picks a model tier from the request shape. Pure function: identical
// (context size, complexity, models) always yields the same decision.
func Route(models Models, contextTokens int, complexity float64) Decision {
	switch {
	case contextTokens > largeContextThreshold:
		return Decision{
			Model:      pick(models.LargeContext, models.Default),
			Reason:     fmt.Sprintf("Large context - using %s", pick(models.LargeContext, models.Default)),
			Complexity: complexity,
		}
	case complexity < 0.3:
		return Decision{
			Model:      pick(models.Cheap, models.Default),
			Reason:     "Simple request - using fast model",
			Complexity: complexity,
		}
	case complexity > 0.7:
		return Decision{
			Model:      pick(models.Reasoning, models.Default),
			Reason:     "Complex request - using reasoning model",
			Complexity: complexity,
		}
	default:
		return Decision{
			Model:      models.Default,
			Reason:     "Default routing",
			Complexity: complexity,
		}
	}
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
