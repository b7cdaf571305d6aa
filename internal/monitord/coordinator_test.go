package monitord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsistentHashing(t *testing.T) {
	tests := []struct {
		name          string
		instances     []string
		domains       []string
		expectedDist  map[string]int
		testDomain    string
		expectedOwner string
	}{
		{
			name:      "single instance gets all domains",
			instances: []string{"instance-1"},
			domains:   []string{"a.example.com", "b.example.com", "c.example.com"},
			expectedDist: map[string]int{
				"instance-1": 3,
			},
			testDomain:    "a.example.com",
			expectedOwner: "instance-1",
		},
		{
			name:      "two instances split domains",
			instances: []string{"instance-1", "instance-2"},
			domains:   []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com"},
			testDomain: "a.example.com",
		},
		{
			name:      "three instances distribute evenly",
			instances: []string{"instance-1", "instance-2", "instance-3"},
			domains:   []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com", "e.example.com", "f.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coordinator{
				instanceID: tt.instances[0],
				instances:  tt.instances,
			}

			if tt.expectedDist != nil {
				stats := c.GetAssignmentStats(tt.domains)
				for instanceID, expectedCount := range tt.expectedDist {
					assert.Equal(t, expectedCount, stats[instanceID],
						"Instance %s should have %d domains", instanceID, expectedCount)
				}
			}

			if tt.expectedOwner != "" {
				owner := c.getAssignedInstance(tt.testDomain)
				assert.Equal(t, tt.expectedOwner, owner,
					"Domain %s should be assigned to %s", tt.testDomain, tt.expectedOwner)
			}

			assignedDomains := c.GetAssignedDomains(tt.domains)
			assert.NotNil(t, assignedDomains)

			allAssigned := make(map[string]bool)
			for _, instanceID := range tt.instances {
				c.instanceID = instanceID
				assigned := c.GetAssignedDomains(tt.domains)
				for _, domain := range assigned {
					assert.False(t, allAssigned[domain],
						"Domain %s should not be assigned to multiple instances", domain)
					allAssigned[domain] = true
				}
			}

			assert.Equal(t, len(tt.domains), len(allAssigned),
				"All domains should be assigned to exactly one instance")
		})
	}
}

func TestCoordinatorShouldMonitor(t *testing.T) {
	tests := []struct {
		name       string
		instances  []string
		instanceID string
		domain     string
		want       bool
	}{
		{
			name:       "single instance monitors all",
			instances:  []string{"instance-1"},
			instanceID: "instance-1",
			domain:     "a.example.com",
			want:       true,
		},
		{
			name:       "no instances returns false",
			instances:  []string{},
			instanceID: "instance-1",
			domain:     "a.example.com",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coordinator{
				instanceID: tt.instanceID,
				instances:  tt.instances,
			}

			got := c.ShouldMonitor(tt.domain)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInstanceCount(t *testing.T) {
	c := &Coordinator{
		instanceID: "instance-1",
		instances:  []string{"instance-1", "instance-2", "instance-3"},
	}

	count := c.GetInstanceCount()
	assert.Equal(t, 3, count)
}

func TestInstancesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		want bool
	}{
		{
			name: "equal slices",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "b", "c"},
			want: true,
		},
		{
			name: "different lengths",
			a:    []string{"a", "b"},
			b:    []string{"a", "b", "c"},
			want: false,
		},
		{
			name: "different values",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "x", "c"},
			want: false,
		},
		{
			name: "empty slices",
			a:    []string{},
			b:    []string{},
			want: true,
		},
		{
			name: "nil vs empty",
			a:    nil,
			b:    []string{},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := instancesEqual(tt.a, tt.b)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashDistribution(t *testing.T) {
	instances := []string{"instance-1", "instance-2", "instance-3"}
	c := &Coordinator{
		instanceID: instances[0],
		instances:  instances,
	}

	domains := make([]string, 300)
	for i := 0; i < 300; i++ {
		domains[i] = string(rune('a'+(i%26))) + string(rune('a'+(i/26)%26)) + ".example.com"
	}

	stats := c.GetAssignmentStats(domains)

	// Each instance should get roughly 100 domains (300 / 3); allow 30% variance.
	for instanceID, count := range stats {
		assert.Greater(t, count, 70, "Instance %s should have at least 70 domains", instanceID)
		assert.Less(t, count, 130, "Instance %s should have at most 130 domains", instanceID)
	}

	total := 0
	for _, count := range stats {
		total += count
	}
	assert.Equal(t, 300, total, "Total assigned domains should equal input domains")
}
