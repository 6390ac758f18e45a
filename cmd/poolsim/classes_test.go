package main

import (
	"testing"
)

func TestClassesCommand(t *testing.T) {
	tests := []struct {
		name        string
		poolSize    int
		blockSize   int
		classes     int
		jsonOut     bool
		wantErr     bool
		wantContain []string
	}{
		{
			name:      "reference geometry",
			poolSize:  16384,
			blockSize: 128,
			classes:   5,
			wantContain: []string{
				"Pool: 16384 bytes at 0x20004000, 128 slots per class",
				"0             128    128",
				"4            2048      8",
			},
		},
		{
			name:      "large geometry",
			poolSize:  65536,
			blockSize: 64,
			classes:   7,
			wantContain: []string{
				"1024 slots per class",
				"6            4096     16",
			},
		},
		{
			name:        "json",
			poolSize:    16384,
			blockSize:   128,
			classes:     5,
			jsonOut:     true,
			wantContain: []string{`"BlockSize": 1024`, `"TotalUnits": 16`},
		},
		{
			name:      "too many classes for the pool",
			poolSize:  1024,
			blockSize: 128,
			classes:   5,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			poolSize = tt.poolSize
			blockSize = tt.blockSize
			classCount = tt.classes
			jsonOut = tt.jsonOut

			output, err := captureOutput(t, runClasses)

			if (err != nil) != tt.wantErr {
				t.Errorf("runClasses() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
				return
			}

			if tt.jsonOut && !tt.wantErr {
				assertJSON(t, output)
			}

			assertContains(t, output, tt.wantContain)
		})
	}
}
