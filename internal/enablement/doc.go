// Package enablement decides whether an extension is active for a given
// directory.
//
// Each extension carries an ordered list of path-scoped override rules
// persisted in extension-enablement.json. Rules are evaluated in insertion
// order and the last matching rule wins. A non-empty CLI override list
// replaces file-based evaluation entirely.
package enablement
