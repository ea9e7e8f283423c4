package registry

import (
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Gather returns the current snapshot as Prometheus metric families, so the
// registry can be exposed next to a prometheus.Gatherer. Families without
// samples are left out.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	var (
		out []*dto.MetricFamily
		cur *dto.MetricFamily
	)
	for _, s := range r.Snapshot() {
		if cur == nil || cur.GetName() != s.Name {
			cur = &dto.MetricFamily{
				Name: proto.String(s.Name),
				Help: proto.String(s.Help),
				Type: metricType(s.Type),
			}
			out = append(out, cur)
		}
		m := &dto.Metric{}
		for _, l := range s.Labels {
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(l.Name),
				Value: proto.String(l.Value),
			})
		}
		switch s.Type {
		case Counter:
			m.Counter = &dto.Counter{Value: proto.Float64(s.Value)}
		default:
			m.Gauge = &dto.Gauge{Value: proto.Float64(s.Value)}
		}
		cur.Metric = append(cur.Metric, m)
	}
	return out, nil
}

// WriteText writes the snapshot in the text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	mfs, err := r.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func metricType(t Type) *dto.MetricType {
	switch t {
	case Counter:
		return dto.MetricType_COUNTER.Enum()
	default:
		return dto.MetricType_GAUGE.Enum()
	}
}
