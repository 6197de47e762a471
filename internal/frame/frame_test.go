package frame

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("a,b,c\n1,2,3\n4,5,6\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if !reflect.DeepEqual(f.Columns, []string{"a", "b", "c"}) {
		t.Errorf("columns: %v", f.Columns)
	}
	if f.NumRows() != 2 || f.Rows[1][2] != "6" {
		t.Errorf("rows: %v", f.Rows)
	}
}

func TestReadCSVHeaderOnly(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("x,y\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if f.NumRows() != 0 || f.NumColumns() != 2 {
		t.Errorf("got %d rows, %d cols", f.NumRows(), f.NumColumns())
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestReadCSVRaggedRows(t *testing.T) {
	// Plugins emit whatever they emit; ragged rows are passed through.
	f, err := ReadCSV(strings.NewReader("a,b\n1\n2,3,4\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if f.NumRows() != 2 || len(f.Rows[1]) != 3 {
		t.Errorf("rows: %v", f.Rows)
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	f := &Frame{
		Columns: []string{"name", "note"},
		Rows:    [][]string{{"x", "has,comma"}, {"y", "has \"quote\""}},
	}
	var buf bytes.Buffer
	if err := f.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if !reflect.DeepEqual(f, back) {
		t.Errorf("round trip mismatch: %+v vs %+v", f, back)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	f := &Frame{
		Columns: []string{"id", "value"},
		Rows:    [][]string{{"1", "alpha"}, {"2", "beta"}, {"3", ""}},
	}
	data, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(f, back) {
		t.Errorf("round trip mismatch: %+v vs %+v", f, back)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not a frame")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}
