package templates

import (
	"encoding/json"
	"reflect"
	"testing"

	"whatsapp-campaigns/internal/apperrors"
)

func mustCompile(content string) *Compiled {
	c, err := Compile(content)
	if err != nil {
		panic(err)
	}
	return c
}

func TestCompileAndRender(t *testing.T) {
	c, err := Compile("Hola {{ first_name }}, tienes {{points}} puntos. {{first_name}}, usa {{promo.code}}")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if want := []string{"first_name", "points", "promo.code"}; !reflect.DeepEqual(c.Placeholders(), want) {
		t.Fatalf("placeholders = %v", c.Placeholders())
	}

	out, err := c.Render(map[string]string{"first_name": "Ana", "points": "120", "promo.code": "X1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "Hola Ana, tienes 120 puntos. Ana, usa X1"; out != want {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	c := mustCompile("Hola {{name}} {{code}}")
	_, err := c.Render(map[string]string{"name": "Ana"})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := c.Missing(map[string]string{}); !reflect.DeepEqual(got, []string{"code", "name"}) {
		t.Fatalf("Missing = %v", got)
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	for _, content := range []string{"Hola {{name", "Hola {{}}", "Hola {{ 1abc }}", "Hola name}}", "{{a b}}"} {
		if _, err := Compile(content); !apperrors.IsValidation(err) {
			t.Fatalf("Compile(%q): expected validation error, got %v", content, err)
		}
	}
}

func TestPlainContent(t *testing.T) {
	c := mustCompile("Sin variables")
	out, err := c.Render(nil)
	if err != nil || out != "Sin variables" {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestContentVariables(t *testing.T) {
	c := mustCompile("{{name}} ganaste {{prize}}")
	raw, err := c.ContentVariables(map[string]string{"name": "Ana", "prize": "un café"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatal(err)
	}
	if got["1"] != "Ana" || got["2"] != "un café" {
		t.Fatalf("content variables = %v", got)
	}
}

func TestDecodeVariables(t *testing.T) {
	vars, err := DecodeVariables(`{"discount": 15, "store": "Centro", "vip": true}`)
	if err != nil {
		t.Fatal(err)
	}
	if vars["discount"] != "15" || vars["store"] != "Centro" || vars["vip"] != "true" {
		t.Fatalf("vars = %v", vars)
	}
	if _, err := DecodeVariables(`[1,2]`); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEncodePlaceholders(t *testing.T) {
	if got := EncodePlaceholders(nil); got != "[]" {
		t.Fatalf("got %q", got)
	}
	if got := EncodePlaceholders([]string{"a", "b"}); got != `["a","b"]` {
		t.Fatalf("got %q", got)
	}
}
