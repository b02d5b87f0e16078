// Package kdb implements encoding and decoding of the q IPC message format
// and a client connection speaking it.
package kdb

/*
Kdb+ type name	Kdb+ type number	Encoded type name	C type	Size in bytes
mixed list	0	K0	K	-
boolean		1	KB	char	1
guid		2	UU	U	16
byte		4	KG	char	1
short		5	KH	short	2
int			6	KI	int	4
long		7	KJ	int64_t	8
real		8	KE	float	4
float		9	KF	double	8
char		10	KC	char	1
symbol		11	KS	char*	variable, 0-terminated
timestamp	12	KP	int64_t	8 (nanoseconds from 2000.01.01)
month		13	KM	int	4 (months from 2000.01.01)
date		14	KD	int	4 (days from 2000.01.01)
datetime	15	KZ	double	8 (days from 2000.01.01, deprecated)
timespan	16	KN	int64_t	8 (nanoseconds)
minute		17	KU	int	4
second		18	KV	int	4
time		19	KT	int	4 (milliseconds)
table/flip	98	XT	-	-
dict/keyed table	99	XD	-	-
error	-128	KERR	char*	0-terminated
*/
