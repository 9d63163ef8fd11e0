// Package tools contains the closed set of read-only lookup tools the agent can
// call (account_lookup, kb_search, crm_notes) and the name-keyed registry the
// executor resolves them from. Arguments are validated per tool before a lookup
// runs; a lookup miss is a sentinel string, never an error.
package tools
