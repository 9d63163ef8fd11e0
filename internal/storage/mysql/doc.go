// Package mysql loads the read-only tool dataset (accounts, CRM notes and
// knowledge base articles) from MySQL, applies the embedded schema migrations,
// and can seed the tables from a fixture file.
package mysql
