// Package exitcodes defines the standard exit codes used by caserunner.
package exitcodes

// Exit code constants used by caserunner
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when all test cases pass successfully
// * TestFailure (1): Used when one or more test cases fail
// * RuntimeErr (2): Used for runtime errors such as panics, timeouts or other failures
const (
	Success     = 0 // All test cases pass
	TestFailure = 1 // Test case failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
