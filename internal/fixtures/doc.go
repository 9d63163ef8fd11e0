// Package fixtures holds the static records the lookup tools resolve against:
// accounts, CRM client notes and knowledge-base articles. Datasets are built in,
// read from a JSON/YAML file, or loaded from MySQL by internal/storage/mysql, and
// are never mutated after start-up.
package fixtures
