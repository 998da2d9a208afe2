package anthropic

import (
	"strings"

	"go.uber.org/zap"
)

// Usage counts the tokens of one completion.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		CacheWrite: u.CacheWrite + o.CacheWrite,
		CacheRead:  u.CacheRead + o.CacheRead,
	}
}

type price struct {
	input, output float64 // USD per million tokens
}

// Longest prefix wins, so dated model ids resolve to their family.
var prices = []struct {
	prefix string
	price
}{
	{"claude-haiku-4-5", price{1.00, 5.00}},
	{"claude-sonnet-4-5", price{3.00, 15.00}},
	{"claude-sonnet-4", price{3.00, 15.00}},
	{"claude-opus-4", price{15.00, 75.00}},
}

func lookupPrice(model string) (price, bool) {
	best := -1
	var p price
	for _, e := range prices {
		if strings.HasPrefix(model, e.prefix) && len(e.prefix) > best {
			best, p = len(e.prefix), e.price
		}
	}
	return p, best >= 0
}

// Cost estimates the spend in USD. Unknown models cost 0. Cache writes bill
// at 1.25x input and cache reads at 0.1x.
func (u Usage) Cost(model string) float64 {
	p, ok := lookupPrice(model)
	if !ok {
		return 0
	}
	const mtok = 1e6
	return float64(u.Input)/mtok*p.input +
		float64(u.Output)/mtok*p.output +
		float64(u.CacheWrite)/mtok*p.input*1.25 +
		float64(u.CacheRead)/mtok*p.input*0.1
}

// Fields renders u as zap fields, cost included.
func (u Usage) Fields(model string) []zap.Field {
	return []zap.Field{
		zap.String("model", model),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	}
}
