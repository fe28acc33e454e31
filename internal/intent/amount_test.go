package intent

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "50000", want: "50000"},
		{in: "50,000", want: "50000"},
		{in: "Rp 50,000", want: "50000"},
		{in: "Rp. 12,500", want: "12500"},
		{in: "$12.50", want: "12.5"},
		{in: "100 USD", want: "100"},
		{in: "20k", want: "20000"},
		{in: "20K", want: "20000"},
		{in: "1.5jt", want: "1500000"},
		{in: "15rb", want: "15000"},
		{in: "-3", want: "-3"},
		{in: "", wantErr: true},
		{in: "Rp", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
