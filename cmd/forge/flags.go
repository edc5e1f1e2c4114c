package main

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// EnsureFlags holds flags for the ensure command.
type EnsureFlags struct {
	Name     string
	Dir      string
	Command  string
	Backend  int
	Frontend int
}

// SlotFlags holds flags for commands addressing one registered slot.
type SlotFlags struct {
	Name string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Listen   string
	BasePath string
}
