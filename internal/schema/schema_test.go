package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

const testCatalog = `
tools:
  - name: readValues
    description: Read a range of cells.
    parameters:
      type: object
      properties:
        spreadsheetId:
          type: string
        range:
          type: string
        majorDimension:
          type: string
          enum: [ROWS, COLUMNS]
      required: [spreadsheetId, range]
    response:
      strict: true
      schema:
        type: object
        properties:
          range:
            type: string
          values:
            type: array
            items:
              type: array
              items:
                type: string
        required: [range]
  - name: appendRow
    description: Append one row.
    parameters:
      type: object
      properties:
        spreadsheetId:
          type: string
        row:
          type: array
          items:
            type: string
        count:
          type: integer
      required: [spreadsheetId, row]
`

func mustLoad(t *testing.T) []ToolDefinition {
	t.Helper()
	tools, err := LoadTools([]byte(testCatalog))
	if err != nil {
		t.Fatalf("LoadTools() error = %v", err)
	}
	return tools
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return v
}

func TestLoadToolsKeepsPropertyOrder(t *testing.T) {
	t.Parallel()

	tools := mustLoad(t)
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}
	var names []string
	for _, p := range tools[0].Parameters.Properties {
		names = append(names, p.Name)
	}
	want := []string{"spreadsheetId", "range", "majorDimension"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("property order = %v, want %v", names, want)
	}
	if !tools[0].Response.Strict {
		t.Fatal("readValues response should be strict")
	}
}

func TestLoadToolsRejectsMalformedCatalogs(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown kind": `
tools:
  - name: f
    description: d
    parameters: {type: object, properties: {a: {type: date}}}
`,
		"required not declared": `
tools:
  - name: f
    description: d
    parameters: {type: object, properties: {a: {type: string}}, required: [b]}
`,
		"array without items": `
tools:
  - name: f
    description: d
    parameters: {type: object, properties: {a: {type: array}}}
`,
		"enum on integer": `
tools:
  - name: f
    description: d
    parameters: {type: object, properties: {a: {type: integer, enum: ["1"]}}}
`,
		"duplicate function": `
tools:
  - name: f
    description: d
    parameters: {type: object}
  - name: f
    description: d
    parameters: {type: object}
`,
		"qualified separator in name": `
tools:
  - name: a__b
    description: d
    parameters: {type: object}
`,
		"non-object parameters": `
tools:
  - name: f
    description: d
    parameters: {type: string}
`,
		"unknown schema key": `
tools:
  - name: f
    description: d
    parameters: {type: object, format: x}
`,
		"empty": ``,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadTools([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateReportsEveryOffendingField(t *testing.T) {
	t.Parallel()

	params := mustLoad(t)[0].Parameters
	errs := Validate(params, decode(t, `{"range": 5, "majorDimension": "DIAGONAL", "extra": true}`))
	got := errs.Paths()
	want := []string{"spreadsheetId", "range", "majorDimension", "extra"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("paths = %v, want %v (%v)", got, want, errs)
	}
}

func TestValidateDoesNotCoerce(t *testing.T) {
	t.Parallel()

	params := mustLoad(t)[1].Parameters
	cases := []struct {
		name string
		args string
		want []string
	}{
		{name: "valid", args: `{"spreadsheetId":"s","row":["a","b"],"count":2}`},
		{name: "integral float is an integer", args: `{"spreadsheetId":"s","row":[],"count":2.0}`},
		{name: "fractional integer", args: `{"spreadsheetId":"s","row":[],"count":2.5}`, want: []string{"count"}},
		{name: "string integer", args: `{"spreadsheetId":"s","row":[],"count":"2"}`, want: []string{"count"}},
		{name: "nested item type", args: `{"spreadsheetId":"s","row":["a",1]}`, want: []string{"row[1]"}},
		{name: "null required", args: `{"spreadsheetId":null,"row":[]}`, want: []string{"spreadsheetId"}},
		{name: "not an object", args: `[]`, want: []string{""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			errs := Validate(params, decode(t, tc.args))
			got := errs.Paths()
			if len(got) == 0 {
				got = nil
			}
			var want []string
			if len(tc.want) > 0 {
				want = tc.want
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("paths = %v, want %v", got, want)
			}
		})
	}
}

func TestShapeStrictStripsUndeclaredFieldsRecursively(t *testing.T) {
	t.Parallel()

	resp := ResponseSchema{Strict: true, Node: &Node{
		Kind: KindObject,
		Properties: []Property{
			{Name: "range", Node: &Node{Kind: KindString}},
			{Name: "meta", Node: &Node{Kind: KindObject, Properties: []Property{
				{Name: "rows", Node: &Node{Kind: KindInteger}},
			}}},
		},
		Required: []string{"range"},
	}}
	out, errs := Shape(resp, decode(t, `{"range":"A1:B2","etag":"x","meta":{"rows":2,"internal":"y"}}`))
	if len(errs) > 0 {
		t.Fatalf("Shape() errors = %v", errs)
	}
	want := map[string]any{"range": "A1:B2", "meta": map[string]any{"rows": float64(2)}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("Shape() = %#v, want %#v", out, want)
	}
}

func TestShapeNonStrictKeepsExtras(t *testing.T) {
	t.Parallel()

	resp := ResponseSchema{Node: &Node{
		Kind:       KindObject,
		Properties: []Property{{Name: "id", Node: &Node{Kind: KindString}}},
	}}
	out, errs := Shape(resp, decode(t, `{"id":"1","extra":true}`))
	if len(errs) > 0 {
		t.Fatalf("Shape() errors = %v", errs)
	}
	if out.(map[string]any)["extra"] != true {
		t.Fatalf("Shape() = %#v, want extra kept", out)
	}
}

func TestShapeReportsMissingAndMistypedFields(t *testing.T) {
	t.Parallel()

	resp := mustLoad(t)[0].Response
	_, errs := Shape(resp, decode(t, `{"values":[["a", 1]]}`))
	got := errs.Paths()
	want := []string{"range", "values[0][1]"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
}

func TestNodeMarshalJSONIsOrdered(t *testing.T) {
	t.Parallel()

	params := mustLoad(t)[0].Parameters
	b, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	s := string(b)
	if strings.Index(s, `"spreadsheetId"`) > strings.Index(s, `"range"`) ||
		strings.Index(s, `"range"`) > strings.Index(s, `"majorDimension"`) {
		t.Fatalf("properties out of order: %s", s)
	}
	if !strings.Contains(s, `"required":["spreadsheetId","range"]`) {
		t.Fatalf("required missing: %s", s)
	}
	if !strings.Contains(s, `"enum":["ROWS","COLUMNS"]`) {
		t.Fatalf("enum missing: %s", s)
	}
}

func TestFunctionSchema(t *testing.T) {
	t.Parallel()

	fs := mustLoad(t)[0].FunctionSchema("sheets__readValues")
	b, err := json.Marshal(fs)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded.Type != "function" || decoded.Function.Name != "sheets__readValues" {
		t.Fatalf("schema = %s", b)
	}
	if decoded.Function.Parameters["type"] != "object" {
		t.Fatalf("parameters = %v", decoded.Function.Parameters)
	}
}
