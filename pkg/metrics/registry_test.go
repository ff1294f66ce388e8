package metrics

import (
	"sync"
	"testing"
)

func TestDefaultRegistry_Singleton(t *testing.T) {
	registry1 := DefaultRegistry()
	registry2 := DefaultRegistry()

	if registry1 != registry2 {
		t.Error("DefaultRegistry() should return singleton instance")
	}
}

func TestDefaultRegistry_ConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	registries := make([]*MetricsRegistry, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			registries[index] = DefaultRegistry()
		}(i)
	}

	wg.Wait()

	first := registries[0]
	for i := 1; i < len(registries); i++ {
		if registries[i] != first {
			t.Errorf("Registry at index %d is not the same instance", i)
		}
	}
}

func TestNewMetricsRegistry(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		expected  string
	}{
		{
			name:      "with custom namespace",
			namespace: "test_service",
			expected:  "test_service",
		},
		{
			name:      "with empty namespace (should default)",
			namespace: "",
			expected:  "catalogrelay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewMetricsRegistry(tt.namespace)
			if registry.Namespace() != tt.expected {
				t.Errorf("Namespace() = %q, want %q", registry.Namespace(), tt.expected)
			}
		})
	}
}

func TestMetricsRegistry_Sync(t *testing.T) {
	registry := NewMetricsRegistry("test_reg_sync")

	sync1 := registry.Sync()
	if sync1 == nil {
		t.Fatal("Sync() returned nil")
	}

	sync2 := registry.Sync()
	if sync1 != sync2 {
		t.Error("Sync() should return same instance on subsequent calls")
	}

	if sync1.BatchesFetchedTotal == nil {
		t.Error("BatchesFetchedTotal not initialized")
	}
	if sync1.RetriesTotal == nil {
		t.Error("RetriesTotal not initialized")
	}
	if sync1.AnchorCommitsTotal == nil {
		t.Error("AnchorCommitsTotal not initialized")
	}
}

func TestMetricsRegistry_ClientSync(t *testing.T) {
	registry := NewMetricsRegistry("test_reg_clientsync")

	cs1 := registry.ClientSync()
	if cs1 == nil {
		t.Fatal("ClientSync() returned nil")
	}

	cs2 := registry.ClientSync()
	if cs1 != cs2 {
		t.Error("ClientSync() should return same instance on subsequent calls")
	}

	if cs1.HTTP == nil {
		t.Error("HTTP metrics not initialized")
	}
	if cs1.LayerHitsTotal == nil {
		t.Error("LayerHitsTotal not initialized")
	}
	if cs1.DriverMatchesTotal == nil {
		t.Error("DriverMatchesTotal not initialized")
	}
}

func TestMetricsRegistry_Infra(t *testing.T) {
	registry := NewMetricsRegistry("test_reg_infra")

	infra1 := registry.Infra()
	if infra1 == nil {
		t.Fatal("Infra() returned nil")
	}

	infra2 := registry.Infra()
	if infra1 != infra2 {
		t.Error("Infra() should return same instance on subsequent calls")
	}

	if infra1.DB == nil {
		t.Error("DB metrics not initialized")
	}
	if infra1.Cache == nil {
		t.Error("Cache metrics not initialized")
	}
	if infra1.Store == nil {
		t.Error("Store metrics not initialized")
	}
}

func TestMetricsRegistry_LazyInitialization(t *testing.T) {
	registry := NewMetricsRegistry("test_lazy_init_unique")

	if registry.sync != nil {
		t.Error("Sync should be nil before first access")
	}
	if registry.infra != nil {
		t.Error("Infra should be nil before first access")
	}

	_ = registry.Sync()
	if registry.sync == nil {
		t.Error("Sync should be initialized after access")
	}
	if registry.infra != nil {
		t.Error("Infra should still be nil (not accessed yet)")
	}

	_ = registry.Infra()
	if registry.infra == nil {
		t.Error("Infra should be initialized after access")
	}
}

func BenchmarkDefaultRegistry(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultRegistry()
	}
}

func BenchmarkMetricsRegistry_Sync(b *testing.B) {
	registry := DefaultRegistry()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = registry.Sync()
	}
}

func BenchmarkMetricsRegistry_AllCategories(b *testing.B) {
	registry := DefaultRegistry()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = registry.Sync()
		_ = registry.ClientSync()
		_ = registry.Infra()
	}
}
