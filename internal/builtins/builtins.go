// Package builtins supplies the fixed paraFlow declarations that seed the
// universe scope: the core procedures with the file class, and the internal
// string class. The bodies of these declarations live in the runtime.
package builtins

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// LanguageVersion is the language level described by the built-in text.
const LanguageVersion = "1.0.0"

// RuntimePrefix starts every assembler symbol provided by the runtime.
const RuntimePrefix = "_pf_"

// StringClass is the internal class that string members resolve against.
const StringClass = "_pf_string"

// Runtime helpers called by lowered code that have no paraFlow declaration.
const (
	HelperStringCat = RuntimePrefix + "string_cat"
	HelperStringCmp = RuntimePrefix + "string_cmp"
)

const builtinCode = `// Core procedures.
to print(string s) {}
to prin(string s) {}
to punt(string message) {}
to die(string message) {}
to keyIn() into string key {}
to randNum() into double r {}
to milliTicks() into int ticks {}
to sleep(int millis) {}
to intToString(int i) into string s {}
to doubleToString(double d) into string s {}
to fileOpen(string name, string mode) into file f {}

class file {
	string name;
	to close() {}
	to writeString(string s) {}
	to readLine() into string line {}
	to readAll() into string all {}
	to read(int count) into string s {}
	to put(byte b) {}
	to get() into byte b {}
}
`

const stringDef = `class _pf_string {
	int size;
	to upper() into string s {}
	to lower() into string s {}
	to dupe() into string s {}
	to start(int count) into string s {}
	to rest(int first) into string s {}
	to middle(int first, int count) into string s {}
	to end(int count) into string s {}
	to find(string sub) into int pos {}
	to findNext(string sub, int first) into int pos {}
	to trim() into string s {}
}
`

// Provider hands out the built-in declaration text. The zero value is not
// useful; construct one with New and pass it to the resolver.
type Provider struct {
	code      string
	strDef    string
	version   *semver.Version
	helpers   []string
	stringCls string
}

// New returns the provider for this compiler build.
func New() *Provider {
	return &Provider{
		code:      builtinCode,
		strDef:    stringDef,
		version:   semver.MustParse(LanguageVersion),
		helpers:   []string{HelperStringCat, HelperStringCmp},
		stringCls: StringClass,
	}
}

// BuiltinCode returns the core procedure declarations.
func (p *Provider) BuiltinCode() string { return p.code }

// StringDef returns the declaration of the internal string class.
func (p *Provider) StringDef() string { return p.strDef }

// Version returns the language version the built-ins implement.
func (p *Provider) Version() *semver.Version { return p.version }

// StringClass returns the name of the internal string class.
func (p *Provider) StringClass() string { return p.stringCls }

// Helpers lists runtime routines that lowered code may call directly.
func (p *Provider) Helpers() []string {
	out := make([]string, len(p.helpers))
	copy(out, p.helpers)

	return out
}

// Symbol returns the runtime symbol for a built-in function. Methods are
// qualified by their class; members of the string class keep its prefix.
func (p *Provider) Symbol(class, name string) string {
	if class == "" {
		return RuntimePrefix + name
	}

	class = strings.TrimPrefix(class, RuntimePrefix)

	return RuntimePrefix + class + "_" + name
}
