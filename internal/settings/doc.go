// Package settings resolves and persists the values of an extension's
// declared settings.
//
// Non-sensitive values live in dotenv files, one per scope. Sensitive values
// live in the OS keychain under a service label derived from the extension
// name and id. Workspace values override user values.
package settings
