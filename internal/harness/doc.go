// Package harness runs chat scenarios against a fresh document store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: restricted_group
//	description: "Only admins may post once posting is restricted"
//	users:
//	  - { id: alice, name: Alice }
//	  - { id: bob, name: Bob }
//	steps:
//	  - action: create_group
//	    actor: alice
//	    as: g
//	    args: { name: Announcements, members: [bob] }
//	  - action: send
//	    actor: bob
//	    conversation: $g
//	    args: { text: "hello" }
//	assertions:
//	  - type: last_message
//	    conversation: $g
//	    expect: { text: "hello", sender: bob }
//
// Steps may bind the id they create with "as"; later steps and assertions
// refer to it as "$name".
//
// # Assertion Types
//
//   - last_message: the conversation preview text and sender
//   - participants: the exact participant set
//   - admins: the exact admin set
//   - read_state: the unread count seen by a viewer
//   - message_count: the number of messages in the conversation
//   - error: the error code a step failed with
//
// # Deterministic Testing
//
// Every scenario runs against its own temporary SQLite store stamped by a
// testutil.DeterministicClock, with sequential message ids (msg-N) and
// group ids (group-N). Identical scenarios therefore yield identical
// traces, which RunWithGolden compares against testdata/golden.
package harness
