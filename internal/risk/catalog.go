package risk

import "regexp"

// Signature is one entry in the risk catalog: a pattern with its severity,
// type, and grouping category. Adding coverage means appending entries here,
// not changing the scoring logic.
type Signature struct {
	Pattern  *regexp.Regexp
	Severity Severity
	Type     Type
	Category string
	Label    string
}

// catalog is matched in order; ties on severity keep this order in results.
// Patterns are case-insensitive and deliberately broad: alerts are reviewed
// by a human, so false positives beat missed destructive commands.
var catalog = []Signature{
	// destructive
	{regexp.MustCompile(`(?i)rm\s+-[a-z]*[rf][a-z]*\s+[/~]`), SeverityCritical, TypeDestructiveCommand, "destructive", "recursive delete of home or root path"},
	{regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`), SeverityCritical, TypeDestructiveCommand, "destructive", "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\s+if=`), SeverityCritical, TypeDestructiveCommand, "destructive", "raw disk write"},
	{regexp.MustCompile(`(?i):\(\)\s*\{\s*:\|:&\s*\};:`), SeverityCritical, TypeDestructiveCommand, "destructive", "fork bomb"},
	{regexp.MustCompile(`(?i)\b(DROP|TRUNCATE)\s+(TABLE|DATABASE|SCHEMA)\b`), SeverityHigh, TypeDestructiveCommand, "destructive", "destructive SQL statement"},
	{regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`), SeverityCritical, TypeDestructiveCommand, "destructive", "write to block device"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot)\b`), SeverityMedium, TypeDestructiveCommand, "destructive", "host power control"},

	// privilege escalation
	{regexp.MustCompile(`(?i)\bsudo\s+`), SeverityHigh, TypePrivilegeEscalation, "privilege-escalation", "sudo invocation"},
	{regexp.MustCompile(`(?i)\bchmod\s+[47]77\b`), SeverityHigh, TypePrivilegeEscalation, "privilege-escalation", "world-writable permissions"},
	{regexp.MustCompile(`(?i)\bchown\s+root\b`), SeverityHigh, TypePrivilegeEscalation, "privilege-escalation", "ownership change to root"},
	{regexp.MustCompile(`(?i)\bsetuid\b|\bsetcap\b`), SeverityHigh, TypePrivilegeEscalation, "privilege-escalation", "setuid/capability change"},
	{regexp.MustCompile(`(?i)\bsu\s+-\s*$|\bsu\s+root\b`), SeverityMedium, TypePrivilegeEscalation, "privilege-escalation", "switch to root user"},

	// credential access
	{regexp.MustCompile(`(?i)/etc/(passwd|shadow)\b`), SeverityCritical, TypeCredentialAccess, "credential-access", "system credential file"},
	{regexp.MustCompile(`(?i)\.ssh/`), SeverityHigh, TypeSensitiveFile, "credential-access", "SSH key directory"},
	{regexp.MustCompile(`(?i)\baws_secret_access_key\b|\.aws/credentials`), SeverityCritical, TypeCredentialAccess, "credential-access", "cloud credential material"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|auth[_-]?token|password)\s*[=:]`), SeverityMedium, TypeCredentialAccess, "credential-access", "inline secret assignment"},
	{regexp.MustCompile(`(?i)ssh-keygen|authorized_keys`), SeverityHigh, TypeCredentialAccess, "credential-access", "SSH key manipulation"},
	{regexp.MustCompile(`(?i)security\s+find-generic-password|keychain`), SeverityHigh, TypeCredentialAccess, "credential-access", "keychain access"},

	// data exfiltration
	{regexp.MustCompile(`(?i)curl\s[^|;&]*(-d|--data|--upload-file|-T)\b`), SeverityCritical, TypeDataExfiltration, "data-exfiltration", "outbound data upload"},
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(ba)?sh\b`), SeverityCritical, TypeDataExfiltration, "data-exfiltration", "remote script piped to shell"},
	{regexp.MustCompile(`(?i)\bbase64\s+(-d|--decode)`), SeverityHigh, TypeDataExfiltration, "data-exfiltration", "base64 decode, possible obfuscation"},
	{regexp.MustCompile(`(?i)\bscp\s+[^\s]+\s+\w+@`), SeverityHigh, TypeDataExfiltration, "data-exfiltration", "file copy to remote host"},
	{regexp.MustCompile(`(?i)\brsync\b[^|;&]*\s\w+@[\w.]+:`), SeverityHigh, TypeDataExfiltration, "data-exfiltration", "rsync to remote host"},

	// sensitive files
	{regexp.MustCompile(`(?i)\.env\b`), SeverityMedium, TypeSensitiveFile, "sensitive-file", "environment file"},
	{regexp.MustCompile(`(?i)\.(gnupg|gpg)\b`), SeverityHigh, TypeSensitiveFile, "sensitive-file", "GPG key material"},
	{regexp.MustCompile(`(?i)id_(rsa|ed25519|ecdsa)\b`), SeverityCritical, TypeSensitiveFile, "sensitive-file", "private SSH key"},
	{regexp.MustCompile(`(?i)>\s*/etc/`), SeverityCritical, TypeSensitiveFile, "sensitive-file", "write into /etc"},
	{regexp.MustCompile(`(?i)/\.kube/config`), SeverityHigh, TypeSensitiveFile, "sensitive-file", "kubernetes credentials"},
	{regexp.MustCompile(`(?i)\b(crontab|launchctl|systemctl\s+enable)\b`), SeverityHigh, TypeUnusualPattern, "sensitive-file", "scheduled task or service persistence"},

	// network exposure
	{regexp.MustCompile(`(?i)\bnc(at)?\s+-[a-z]*[el]`), SeverityCritical, TypeNetworkExposure, "network-exposure", "netcat listener or exec shell"},
	{regexp.MustCompile(`(?i)/dev/(tcp|udp)/`), SeverityCritical, TypeNetworkExposure, "network-exposure", "bash network device backdoor"},
	{regexp.MustCompile(`(?i)\bmkfifo\b`), SeverityHigh, TypeNetworkExposure, "network-exposure", "named pipe, common reverse shell plumbing"},
	{regexp.MustCompile(`(?i)\bbash\s+-i\s+>&`), SeverityCritical, TypeNetworkExposure, "network-exposure", "interactive reverse shell"},
	{regexp.MustCompile(`(?i)\b(iptables|ufw|firewall-cmd)\b`), SeverityHigh, TypeNetworkExposure, "network-exposure", "firewall modification"},
	{regexp.MustCompile(`(?i)\bpython[23]?\s+-c\s+.*\bsocket\b`), SeverityCritical, TypeNetworkExposure, "network-exposure", "inline python socket script"},
	{regexp.MustCompile(`(?i)0\.0\.0\.0:\d+`), SeverityMedium, TypeNetworkExposure, "network-exposure", "bind on all interfaces"},

	// persistence
	{regexp.MustCompile(`(?i)Library/Launch(Agents|Daemons)/[^\s]*\.plist`), SeverityHigh, TypeUnusualPattern, "persistence", "launchd persistence plist"},
	{regexp.MustCompile(`(?i)>>?\s*~?/?\.(bashrc|zshrc|bash_profile|profile)\b`), SeverityHigh, TypeUnusualPattern, "persistence", "shell profile modification"},
	{regexp.MustCompile(`(?i)\bchmod\s+[a-z]*\+s\b`), SeverityCritical, TypePrivilegeEscalation, "persistence", "setuid bit on binary"},

	// defense evasion
	{regexp.MustCompile(`(?i)\bhistory\s+-c\b|\bunset\s+HISTFILE\b`), SeverityHigh, TypeUnusualPattern, "defense-evasion", "shell history clearing"},
	{regexp.MustCompile(`(?i)\b(rm|truncate|shred)\b[^|;&]*/var/log/`), SeverityHigh, TypeUnusualPattern, "defense-evasion", "log tampering"},

	// browser data
	{regexp.MustCompile(`(?i)(Cookies|Login Data|Web Data)\b`), SeverityHigh, TypeCredentialAccess, "credential-access", "browser credential store"},

	// staged exfiltration
	{regexp.MustCompile(`(?i)\b(tar|zip)\b[^|;&]*&&[^|;&]*\b(curl|wget|scp)\b`), SeverityCritical, TypeDataExfiltration, "data-exfiltration", "archive then upload"},
	{regexp.MustCompile(`(?i)\b(dig|nslookup|host)\b[^|;&]*\$\(`), SeverityCritical, TypeDataExfiltration, "data-exfiltration", "DNS query with command substitution"},
}

// Catalog returns the signature list. Callers must not mutate entries.
func Catalog() []Signature {
	return catalog
}
