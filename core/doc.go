// Package core provides core types used throughout csv-manager.
//
// The package defines fundamental types like Identity, Table, Row and
// the Coerced value produced by the float, date, text coercion cascade.
//
// # Identity
//
// Identity identifies the author of table changes (recorded as the Git
// commit author when history is enabled):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Table Definition
//
// A table is one delimiter separated file. The first header column is
// always the synthetic index column whose values are rendered "[k]":
//
//	header, _ := core.DeriveHeader(core.DefaultIndexColumn,
//	    []string{"name", "age", "city"}, nil)
//	table := core.Table{
//	    Name:      "people",
//	    Delimiter: '#',
//	    Header:    header, // INDICE, NAME, AGE, CITY
//	    Limits:    core.DefaultLimits(),
//	}
//
// # Coercion
//
// Field values are plain strings. Comparisons and arithmetic interpret
// them through Coerce, which tries a float first, then an ISO-8601
// calendar date, and finally keeps the raw text:
//
//	core.Coerce("12.5").Kind       // KindFloat
//	core.Coerce("2024-08-20").Kind // KindDate
//	core.Coerce("Lucas").Kind      // KindText
package core
