package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// CompletedSession is one completed session as served by the history API.
type CompletedSession struct {
	PlotID   string  `json:"plot_id"`
	VolumeM3 float64 `json:"volume_m3"`
	Time     string  `json:"time"` // RFC3339
}

type historyParams struct {
	PlotID    string
	Minutes   int
	Limit     int
	TimeoutMS int
}

var plotIDRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

func parseHistory(r *http.Request, defMin, defLim, defTOms int) historyParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	p := historyParams{
		Minutes:   get("minutes", defMin, 1, 31*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
	if id := strings.TrimSpace(q.Get("plot_id")); plotIDRe.MatchString(id) {
		p.PlotID = id
	}
	return p
}

func buildFlux(bucket string, p historyParams) string {
	plotFilter := ""
	if p.PlotID != "" {
		plotFilter = fmt.Sprintf("\n  |> filter(fn: (r) => r.plot_id == %q)", p.PlotID)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.event_type == "session.completed")
  |> filter(fn: (r) => r._field == "volume_m3")%s
  |> keep(columns: ["_time","_value","plot_id"])
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, p.Minutes, Measurement, plotFilter, p.Limit)
}

// NewHistoryHandler serves GET /sessions/history?plot_id=&minutes=&limit=
// with the most recent completed sessions.
func NewHistoryHandler(influx influxdb2.Client, org, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseHistory(r, 7*24*60, 20, 2000)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := influx.QueryAPI(org).Query(ctx, buildFlux(bucket, p))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]CompletedSession, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			var volume float64
			switch v := rec.Value().(type) {
			case float64:
				volume = v
			case int64:
				volume = float64(v)
			}
			plotID, _ := rec.ValueByKey("plot_id").(string)
			out = append(out, CompletedSession{
				PlotID:   plotID,
				VolumeM3: volume,
				Time:     rec.Time().UTC().Format(time.RFC3339),
			})
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
