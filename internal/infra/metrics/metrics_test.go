package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveNetworkRequestLabels(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "op", "unknown", "error"))
	ObserveNetworkRequest("", "op", "", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "op", "unknown", "error"))
	if after-before != 1 {
		t.Fatalf("ожидали +1 к счётчику, получили %v", after-before)
	}
}

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	IncUnlock("credit")
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "unlocks_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("ожидали метрику unlocks_total в реестре")
	}
}
