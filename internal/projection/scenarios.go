package projection

import (
	"time"

	"risparmi/internal/core"
)

// Scenario names an annual growth rate for a forecast run.
type Scenario struct {
	Label      string  `yaml:"label" json:"label"`
	AnnualRate float64 `yaml:"annual_rate" json:"annual_rate"`
}

// DefaultScenarios are the three growth assumptions forecasts run under
// unless configured otherwise.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Label: "0% Growth", AnnualRate: 0.00},
		{Label: "4% Growth", AnnualRate: 0.04},
		{Label: "8% Growth", AnnualRate: 0.08},
	}
}

// DefaultHistoryRate is the assumed annual market growth used when
// reconstructing historical balance curves.
const DefaultHistoryRate = 0.06

// RunScenarios runs one forecast per scenario over shared inputs. Every
// series has length years*12, with point k dated lastDate + 30*k days to
// stay aligned with the reconstruction's synthetic date axis.
func RunScenarios(initial, monthlyContribution float64, years int, lastDate time.Time, scenarios []Scenario) ([]core.ForecastScenario, error) {
	out := make([]core.ForecastScenario, 0, len(scenarios))
	for _, sc := range scenarios {
		values, err := Forecast(initial, monthlyContribution, years, sc.AnnualRate)
		if err != nil {
			return nil, err
		}
		series := make([]core.BalancePoint, len(values))
		for k, v := range values {
			series[k] = core.BalancePoint{
				Date:  lastDate.Add(time.Duration(k+1) * monthStep),
				Value: v,
			}
		}
		out = append(out, core.ForecastScenario{
			Label:      sc.Label,
			AnnualRate: sc.AnnualRate,
			Series:     series,
		})
	}
	return out, nil
}
