// Package topics loads and holds topic declarations.
//
// A topic is a named coordination point. It carries the permission
// transitions a subscriber must clear before each execution step, the guard
// names it reports after each step and the transitions fired once per
// completed cycle. Topics are read from JSON or YAML files, validated and
// merged into a Registry, and never change after that.
package topics
