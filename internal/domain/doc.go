// Package domain models SPC tornado-track records and the day-of-year
// aggregates derived from them.
//
// # Data Source
//
// Tracks come from the NOAA Storm Prediction Center (SPC) Severe Weather
// GIS archive, published as zipped ESRI shapefiles at
// https://www.spc.noaa.gov/gis/svrgis/. The "torn-aspath" archive holds one
// line feature per tornado segment, drawn from the start point to the end
// point of the damage path.
//
// # SPC Attribute Conventions
//
// Columns used by this package (DBF field names are lower-case):
//
//	om    tornado number, unique within a year
//	yr    4-digit year
//	mo    month, 1-12
//	dy    day of month
//	date  "YYYY-MM-DD" in local standard time (CST for most records)
//	st    2-letter state abbreviation
//	mag   (E)F-scale rating 0-5; -9 means unknown
//	slat, slon, elat, elon  start/end point in decimal degrees
//	len   path length in miles
//	wid   path width in yards
//
// End coordinates are 0 when only a touchdown point was recorded.
//
// # Day-of-Year Domain
//
// Aggregates are keyed by (Year, D) where D is the calendar day of year.
// The D domain is fixed at 1..366 for every year, leap or not, so that each
// year contributes a series of identical length. In non-leap years D = 366
// is always a zero-count day and dates after February 28 sit one index
// lower than in leap years.
//
// The normalized day fraction is Df = D / 365, capped at 1 so the D = 366
// slot does not leave the unit interval.
package domain
