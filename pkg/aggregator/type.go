package aggregator

import "github.com/NotCoffee418/oxygen_monitor/pkg/oxdb"

type AggregateData struct {
	EndTime            int64
	IsCurrentTimeframe bool
	Aggregate          oxdb.AggregateHourly
}
